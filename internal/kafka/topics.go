package kafka

// Topic names. A task belongs to exactly one topic, determined by its kind;
// results from both workers funnel into TopicResponse.
const (
	TopicInvoice  = "tasks.invoice"
	TopicQuery    = "tasks.query"
	TopicResponse = "tasks.response"
	TopicDLQ      = "tasks.dlq"
)

// TaskTopic maps a task kind to its queue. Unknown kinds map to the DLQ so a
// bad producer can never make a worker guess.
func TaskTopic(kind string) string {
	switch kind {
	case "IMAGE_INVOICE":
		return TopicInvoice
	case "NL_QUERY":
		return TopicQuery
	}
	return TopicDLQ
}
