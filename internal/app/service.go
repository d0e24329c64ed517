package app

import "context"

// ApplicationService is the single interface channel adapters call. It
// decouples the wire envelope from the pipeline. Implementations always
// answer: every inbound text yields a reply string and no error, because a
// conversational channel has no sensible presentation for a raised error.
type ApplicationService interface {
	// HandleMessage runs the full pipeline for one inbound message:
	// classify → parse → execute → format reply.
	HandleMessage(ctx context.Context, text string) string
}
