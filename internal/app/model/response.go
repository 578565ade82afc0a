package model

// Response wraps a message under construction and provides helpers for
// building partial-success bodies. The success list and the error, result
// and receipt maps live at the body level and are created on first use.
type Response struct {
	Message *Message
}

// NewResponse wraps an already built response message
func NewResponse(msg *Message) *Response {
	return &Response{Message: msg}
}

// Body returns the body of the wrapped message
func (r *Response) Body() Body {
	return r.Message.Body
}

// AddSuccess records a succeeded target id
func (r *Response) AddSuccess(id string) {
	list, _ := r.Message.Body["success"].([]string)
	r.Message.Body["success"] = append(list, id)
}

// AddError records a failed target id with a reason
func (r *Response) AddError(id, reason string) {
	r.mapField("error")[id] = reason
}

// AddResult records a synchronous per-target result value
func (r *Response) AddResult(id string, value interface{}) {
	r.mapField("result")[id] = value
}

// AddReceipt records an asynchronous receipt id for a target
func (r *Response) AddReceipt(id, receiptID string) {
	r.mapField("receipt")[id] = receiptID
}

func (r *Response) mapField(key string) map[string]interface{} {
	m, ok := r.Message.Body[key].(map[string]interface{})
	if !ok {
		m = make(map[string]interface{})
		r.Message.Body[key] = m
	}

	return m
}
