package protocol

// Message is one observable event of a run. Which optional fields are set
// depends on Type: processing carries Level and Text, intermediate and
// finished carry Artifact, error carries Text.
type Message struct {
	Type     Status `json:"type"`
	Level    string `json:"level,omitempty"`
	Text     string `json:"text,omitempty"`
	Artifact string `json:"artifact,omitempty"`
}

// Idle builds an idle message.
func Idle() Message { return Message{Type: StatusIdle} }

// Start builds a start message.
func Start() Message { return Message{Type: StatusStart} }

// Processing builds a diagnostic progress message.
func Processing(level, text string) Message {
	return Message{Type: StatusProcessing, Level: level, Text: text}
}

// Intermediate builds a preview message carrying a partial artifact.
func Intermediate(artifact string) Message {
	return Message{Type: StatusIntermediate, Artifact: artifact}
}

// Finished builds the successful terminal message.
func Finished(artifact string) Message {
	return Message{Type: StatusFinished, Artifact: artifact}
}

// Error builds the failed terminal message.
func Error(text string) Message {
	return Message{Type: StatusError, Text: text}
}
