package kafka

import "errors"

var (
	ErrNoBrokers              = errors.New("kafka: no brokers configured")
	ErrEmptyTopic             = errors.New("kafka: empty topic")
	ErrEmptyGroupID           = errors.New("kafka: consumer group id is required for manual commits")
	ErrNilWriter              = errors.New("kafka: nil message writer")
	ErrNilReader              = errors.New("kafka: nil message reader")
	ErrMissingMessageID       = errors.New("kafka: message has no message id")
	ErrUnsupportedContentType = errors.New("kafka: unsupported content type")
	ErrInvalidHeader          = errors.New("kafka: invalid header value")
	ErrAlreadySubscribed      = errors.New("kafka: receiver already has a subscriber")
	ErrReceiverClosed         = errors.New("kafka: receiver is closed")
)
