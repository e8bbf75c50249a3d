// Package message defines the payload carried on pub/sub channels.
//
// A Payload is a small sealed sum type:
//   - Raw: a string published as-is and delivered unparsed when it is not JSON
//   - Structured: a JSON object or array, encoded on publish and decoded on delivery
//
// Numbers, booleans and nil are not publishable; Of and Check report them
// as a *TypeMismatchError before any I/O takes place.
package message
