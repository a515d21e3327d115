package flow

import "encoding/json"

// encodeMessage serializes a Message for use as a Task's opaque value.
// Marshal failures collapse to an empty payload rather than panicking —
// the task id still round-trips correctly, which is all FlushMessages and
// CallState rely on.
func encodeMessage(m Message) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

// DecodeMessage deserializes a Task value previously produced by
// encodeMessage, used by TaskQueue consumers on the client-delivery side.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// EncodeFlow serializes a Flow record for durable storage. Transient
// fields (tagged json:"-") are dropped automatically by encoding/json.
func EncodeFlow(f *Flow) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFlow deserializes a Flow record previously produced by EncodeFlow.
func DecodeFlow(raw []byte) (*Flow, error) {
	var f Flow
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
