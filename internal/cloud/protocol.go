package cloud

import "github.com/MeKo-Tech/lectorium/internal/model"

// Wire operations exchanged between Client and Hub.
const (
	opList      = "list"
	opUpsert    = "upsert"
	opDelete    = "delete"
	opSubscribe = "subscribe"
	opResult    = "result"
	opEvent     = "event"
)

// message is the single JSON frame type of the hub protocol. Requests carry
// a ReqID that the hub echoes in its result frame; events have none.
type message struct {
	Op          string             `json:"op"`
	ReqID       string             `json:"req_id,omitempty"`
	FileID      string             `json:"file_id,omitempty"`
	ID          string             `json:"id,omitempty"`
	Annotation  *model.Annotation  `json:"annotation,omitempty"`
	Annotations []model.Annotation `json:"annotations,omitempty"`
	Event       *Event             `json:"event,omitempty"`
	Error       string             `json:"error,omitempty"`
}
