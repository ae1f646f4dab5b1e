package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/builder"
	"github.com/pbinitiative/zenbpm-embedded/pkg/embedded"
	"github.com/pbinitiative/zenbpm-embedded/pkg/embedded/embeddedtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordsResponse struct {
	Records []struct {
		Position  int64  `json:"position"`
		ValueType string `json:"valueType"`
		Intent    string `json:"intent"`
	} `json:"records"`
	NextPosition int64 `json:"nextPosition"`
}

func newTestServer(t *testing.T) (*httptest.Server, *embeddedtest.Harness) {
	h := embeddedtest.New(t, embedded.WithName("rest-test"))
	srv := httptest.NewServer(NewServer(h.Engine(), "").Handler())
	t.Cleanup(srv.Close)
	return srv, h
}

func getJson(t *testing.T, url string, target any) int {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if target != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp.StatusCode
}

func deployAndStart(t *testing.T, h *embeddedtest.Harness) int64 {
	h.Deploy(builder.CreateExecutableProcess("order").
		StartEvent().
		ServiceTask("task").JobType("ship").
		EndEvent())
	result, err := h.Client().NewCreateInstanceCommand().
		BpmnProcessId("order").
		LatestVersion().
		Variables(map[string]any{"orderId": "A-1"}).
		Send(t.Context())
	require.NoError(t, err)
	return result.ProcessInstanceKey
}

func TestStatusReportsEngine(t *testing.T) {
	// given
	srv, _ := newTestServer(t)

	// when
	var status embedded.Status
	code := getJson(t, srv.URL+"/system/status", &status)

	// then
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "rest-test", status.Name)
	assert.True(t, status.Running)
	assert.True(t, status.ControlledClock)
	assert.True(t, embeddedtest.DefaultStart.Equal(status.Now))
}

func TestRecordsArePaged(t *testing.T) {
	// given
	srv, h := newTestServer(t)
	deployAndStart(t, h)
	total := int64(len(h.Records()))
	require.Greater(t, total, int64(3))

	// when
	var first, rest recordsResponse
	code := getJson(t, srv.URL+"/v1/records?limit=2", &first)
	getJson(t, srv.URL+"/v1/records?from="+strconv.FormatInt(first.NextPosition, 10)+"&limit=1000", &rest)

	// then
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, first.Records, 2)
	assert.Equal(t, int64(1), first.Records[0].Position)
	assert.Equal(t, int64(3), first.NextPosition)
	assert.Len(t, rest.Records, int(total-2))
	assert.Equal(t, total+1, rest.NextPosition)
}

func TestRecordsAreFiltered(t *testing.T) {
	// given
	srv, h := newTestServer(t)
	deployAndStart(t, h)

	// when
	var page recordsResponse
	code := getJson(t, srv.URL+"/v1/records?valueType=JOB&intent=CREATED&processInstanceKey=", &page)

	// then
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "JOB", page.Records[0].ValueType)
	assert.Equal(t, "CREATED", page.Records[0].Intent)
}

func TestRecordsRejectInvalidQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, getJson(t, srv.URL+"/v1/records?from=0", nil))
	assert.Equal(t, http.StatusBadRequest, getJson(t, srv.URL+"/v1/records?limit=5000", nil))
	assert.Equal(t, http.StatusBadRequest, getJson(t, srv.URL+"/v1/records?processInstanceKey=abc", nil))
}

func TestProcessInstanceIsReturned(t *testing.T) {
	// given
	srv, h := newTestServer(t)
	key := deployAndStart(t, h)

	// when
	var instance ProcessInstance
	code := getJson(t, srv.URL+"/v1/process-instances/"+strconv.FormatInt(key, 10), &instance)

	// then
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, key, instance.Key)
	assert.Equal(t, "order", instance.BpmnProcessId)
	assert.Equal(t, "ACTIVE", instance.State)
	assert.Equal(t, "A-1", instance.Variables["orderId"])
}

func TestUnknownProcessInstanceIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, getJson(t, srv.URL+"/v1/process-instances/12345", nil))
	assert.Equal(t, http.StatusNotFound, getJson(t, srv.URL+"/v1/process-instances/12345/incidents", nil))
	assert.Equal(t, http.StatusBadRequest, getJson(t, srv.URL+"/v1/process-instances/abc", nil))
	assert.Equal(t, http.StatusNotFound, getJson(t, srv.URL+"/v1/process-definitions/unknown", nil))
}

func TestIncidentsOfInstanceAreListed(t *testing.T) {
	// given
	srv, h := newTestServer(t)
	key := deployAndStart(t, h)
	jobs, err := h.Client().NewActivateJobsCommand().JobType("ship").MaxJobsToActivate(1).Send(t.Context())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	err = h.Client().NewFailJobCommand().JobKey(jobs[0].Key).Retries(0).ErrorMessage("no truck").Send(t.Context())
	require.NoError(t, err)

	// when
	var incidents []Incident
	code := getJson(t, srv.URL+"/v1/process-instances/"+strconv.FormatInt(key, 10)+"/incidents", &incidents)

	// then
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, incidents, 1)
	assert.Equal(t, "JOB_NO_RETRIES", incidents[0].ErrorType)
	assert.Equal(t, "no truck", incidents[0].Message)
	assert.Equal(t, jobs[0].Key, incidents[0].JobKey)
}

func TestProcessDefinitionsAreListed(t *testing.T) {
	// given
	srv, h := newTestServer(t)
	deployAndStart(t, h)

	// when
	var definitions []map[string]any
	code := getJson(t, srv.URL+"/v1/process-definitions/order", &definitions)

	// then
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, definitions, 1)
	assert.Equal(t, "order", definitions[0]["bpmnProcessId"])
	assert.EqualValues(t, 1, definitions[0]["version"])
}

func TestMetricsEndpointIsServed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/system/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
