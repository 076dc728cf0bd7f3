// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing pipeline events, their wire encoding and
// run states. They are not intended for production usage.
package testutil
