// Package storage contains types and interfaces, so that different state stores can be implemented.
//
// Interfaces in this package must:
//   - return ErrNotFound if the method is looking for one exact item in the store and it is not found
//   - return empty array for methods that can return multiple results and no result is found
//
// A store never changes on its own. Every change is the result of applying exactly one record,
// which makes a store rebuilt from the record log equal to the live one.
package storage
