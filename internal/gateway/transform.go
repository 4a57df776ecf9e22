package gateway

// Header is a single response header field.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RawResponse is a response as received from the network.
type RawResponse struct {
	Status  int      `json:"status"`
	Headers []Header `json:"headers"`
	Body    []byte   `json:"body"`
}

// CanonicalResponse is the normalized form agreed on by every replica that
// executes the same logical call.
type CanonicalResponse struct {
	Status  int      `json:"status"`
	Headers []Header `json:"headers"`
	Body    []byte   `json:"body"`
}

// Transform normalizes a raw response. Implementations must be pure: no
// network, clock or randomness, and identical input yields identical output.
type Transform func(RawResponse) CanonicalResponse

// StripHeaders drops every header and passes status and body through.
// Header values (dates, request ids, casing) differ between replicas.
func StripHeaders(raw RawResponse) CanonicalResponse {
	var body []byte
	if raw.Body != nil {
		body = append([]byte{}, raw.Body...)
	}
	return CanonicalResponse{
		Status:  raw.Status,
		Headers: []Header{},
		Body:    body,
	}
}

// GeminiTransform is bound to the model call site.
func GeminiTransform(raw RawResponse) CanonicalResponse {
	return StripHeaders(raw)
}

// SearchTransform is bound to the search call site.
func SearchTransform(raw RawResponse) CanonicalResponse {
	return StripHeaders(raw)
}
