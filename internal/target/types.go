package target

// BodyFormat identifies how a message body should be interpreted.
type BodyFormat string

const (
	FormatText     BodyFormat = "text"
	FormatMarkdown BodyFormat = "markdown"
	FormatHTML     BodyFormat = "html"
)

// Attachment is a payload shipped alongside a message. Data is held in
// memory; targets that need a file hand it to their transport themselves.
type Attachment struct {
	Name string
	MIME string
	Data []byte
}

// Message is the one unit of delivery. The same Message value is handed to
// every selected target; targets must not mutate it.
type Message struct {
	Title       string
	Body        string
	Format      BodyFormat
	Attachments []Attachment
}

// Capabilities declares what a target can accept. The dispatcher checks
// these locally before any network call.
type Capabilities struct {
	// MaxBodyLen caps the body size in bytes. 0 means unlimited.
	MaxBodyLen int

	SupportsTitle      bool
	SupportsAttachment bool

	// Formats lists accepted body formats. Empty means text only.
	Formats []BodyFormat
}

func (c Capabilities) SupportsFormat(f BodyFormat) bool {
	if f == "" || f == FormatText {
		return true
	}
	for _, have := range c.Formats {
		if have == f {
			return true
		}
	}
	return false
}
