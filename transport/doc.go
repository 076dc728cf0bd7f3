// Package transport turns a chunked byte stream from the orchestration
// backend into an ordered sequence of complete text records.
//
// Three record streams are provided:
//
//   - Decoder: buffers raw chunks from any ChunkSource (an io.Reader, a
//     WebSocket connection) and splits them on newlines, stripping an
//     optional "data:" framing prefix and dropping empty records.
//   - SSEDecoder: decodes text/event-stream HTTP responses.
//   - Client.OpenStream picks one of the above based on the response.
//
// Every stream reports failures as *core.TransportError and clean end of
// stream as io.EOF. Closing a stream makes a blocked Next return promptly.
package transport
