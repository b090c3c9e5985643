// api/schemas/messages.go
package schemas

import "encoding/json"

// MessageKind names one bridge message type.
type MessageKind string

const (
	MsgGetProfile      MessageKind = "GET_PROFILE"
	MsgProfileResult   MessageKind = "PROFILE_RESULT"
	MsgGetQuestions    MessageKind = "GET_QUESTIONS"
	MsgQuestionsResult MessageKind = "QUESTIONS_RESULT"
	MsgMatchQuestion   MessageKind = "MATCH_QUESTION"
	MsgMatchResult     MessageKind = "MATCH_RESULT"
	MsgFillForm        MessageKind = "FILL_FORM"
	MsgFillProgress    MessageKind = "FILL_PROGRESS"
	MsgFillDone        MessageKind = "FILL_DONE"
	MsgLogApplication  MessageKind = "LOG_APPLICATION"
	MsgLogResult       MessageKind = "LOG_RESULT"
	MsgCancel          MessageKind = "CANCEL"
	MsgError           MessageKind = "ERROR"
	// MsgGetStatus and MsgStatusResult carry the status command.
	MsgGetStatus    MessageKind = "GET_STATUS"
	MsgStatusResult MessageKind = "STATUS_RESULT"
)

// responseKinds maps each request kind to the kind of its reply.
var responseKinds = map[MessageKind]MessageKind{
	MsgGetProfile:     MsgProfileResult,
	MsgGetQuestions:   MsgQuestionsResult,
	MsgMatchQuestion:  MsgMatchResult,
	MsgLogApplication: MsgLogResult,
	MsgFillForm:       MsgFillForm,
	MsgCancel:         MsgCancel,
	MsgGetStatus:      MsgStatusResult,
}

// ResponseKind returns the reply kind for a request kind and whether the
// kind expects a reply at all.
func (k MessageKind) ResponseKind() (MessageKind, bool) {
	r, ok := responseKinds[k]
	return r, ok
}

// IsKnown reports whether k belongs to the closed set of message kinds.
func (k MessageKind) IsKnown() bool {
	switch k {
	case MsgGetProfile, MsgProfileResult, MsgGetQuestions, MsgQuestionsResult,
		MsgMatchQuestion, MsgMatchResult, MsgFillForm, MsgFillProgress, MsgFillDone,
		MsgLogApplication, MsgLogResult, MsgCancel, MsgError, MsgGetStatus, MsgStatusResult:
		return true
	}
	return false
}

// Envelope is the unit of traffic on the bridge. Replies echo the request's
// CorrelationID.
type Envelope struct {
	Kind          MessageKind     `json:"kind"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RunID         string          `json:"run_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// FillFormCommand starts a run.
type FillFormCommand struct {
	URL string `json:"url,omitempty"`
}

// FillFormAck answers FILL_FORM and CANCEL.
type FillFormAck struct {
	RunID string `json:"run_id"`
}

// QuestionsResult answers GET_QUESTIONS.
type QuestionsResult struct {
	Questions []StoredQuestion `json:"questions"`
}

// StoredQuestion is one previously answered free-form question.
type StoredQuestion struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Answer string `json:"answer"`
}
