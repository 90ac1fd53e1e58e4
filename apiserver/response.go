package apiserver

// ItemResponse wraps a single entity, matching api/h's envelope shape.
type ItemResponse[T any] struct {
	Status int `json:"-"`
	Body   struct {
		Item T `json:"item"`
	} `json:"body"`
}

// NewItemResponse builds a single-entity response.
func NewItemResponse[T any](item T) *ItemResponse[T] {
	resp := &ItemResponse[T]{}
	resp.Body.Item = item
	return resp
}

// ItemsResponse wraps a list of entities.
type ItemsResponse[T any] struct {
	Status int `json:"-"`
	Body   struct {
		Items []T `json:"items"`
	} `json:"body"`
}

// NewItemsResponse builds a list response.
func NewItemsResponse[T any](items []T) *ItemsResponse[T] {
	resp := &ItemsResponse[T]{}
	resp.Body.Items = items
	return resp
}

// MessageResponse wraps a plain acknowledgement message.
type MessageResponse struct {
	Status int `json:"-"`
	Body   struct {
		Message string `json:"message"`
	} `json:"body"`
}

// NewMessageResponse builds an acknowledgement response.
func NewMessageResponse(message string) *MessageResponse {
	resp := &MessageResponse{}
	resp.Body.Message = message
	return resp
}
