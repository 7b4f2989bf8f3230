package timeline

import "errors"

var (
	ErrEmptyContent      = errors.New("message content is empty")
	ErrSendInFlight      = errors.New("a send is already in flight for this conversation")
	ErrNoConversation    = errors.New("no conversation selected")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotRetryable      = errors.New("message is not in a retryable state")
	ErrOperationInFlight = errors.New("operation already in flight")
	ErrMissingAttachment = errors.New("image message has no attachment reference")
)
