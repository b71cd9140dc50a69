package control

import "encoding/json"

// Call performs the single request/response exchange of the control
// protocol over an already-open stream: write the request, finish the
// send half, then read the ack until end-of-stream.
func Call(stream Stream, req BeginBackupRequest) (CompletionAck, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return CompletionAck{}, err
	}
	if _, err := stream.Write(data); err != nil {
		return CompletionAck{}, err
	}
	if err := stream.Close(); err != nil {
		return CompletionAck{}, err
	}
	body, err := readToEnd(stream, MaxRequestBytes)
	if err != nil {
		return CompletionAck{}, err
	}
	var ack CompletionAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return CompletionAck{}, err
	}
	return ack, nil
}
