package dialogue

// Event is an inbound user action. Every transport converts its updates
// into one of TextReply, VoiceReply, ChoicePicked, ContactShared or Cancel.
type Event interface {
	isEvent()
}

type TextReply struct {
	Text string
}

// VoiceReply carries a voice message, transcribed before use.
type VoiceReply struct {
	Audio    []byte
	Filename string
}

// ChoicePicked is a pressed button. Choice is the value without
// ChoicePrefix.
type ChoicePicked struct {
	Choice string
}

// ContactShared is a contact card sent by the user. UserID is set when the
// transport knows the account behind it.
type ContactShared struct {
	Name   string
	UserID *int64
	Handle string
}

type Cancel struct{}

func (TextReply) isEvent()     {}
func (VoiceReply) isEvent()    {}
func (ChoicePicked) isEvent()  {}
func (ContactShared) isEvent() {}
func (Cancel) isEvent()        {}

// ChoicePrefix marks button data that belongs to the dialogue engine.
const ChoicePrefix = "d:"

// Choice is one button of an outgoing message.
type Choice struct {
	Label string
	Data  string
}

// Reply is an outgoing message. To may differ from the acting user when a
// counter-party is notified.
type Reply struct {
	To      int64
	Text    string
	Choices [][]Choice
}
