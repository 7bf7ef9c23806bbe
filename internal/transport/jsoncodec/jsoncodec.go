// Package jsoncodec implements a grpc encoding.Codec over encoding/json.
//
// The teacher's transport wire format is protobuf generated from an
// external proto module we cannot regenerate here; grpc's codec interface
// is explicitly pluggable for exactly this situation, so the organizer's
// service is registered against a hand-written grpc.ServiceDesc using this
// codec instead of generated *.pb.go stubs.
package jsoncodec

import "encoding/json"

// Name is registered with google.golang.org/grpc/encoding and must match
// the content-subtype grpc clients negotiate.
const Name = "json"

// Codec marshals/unmarshals gRPC messages as JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string {
	return Name
}
