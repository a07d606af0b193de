package telephony

import (
	"bytes"
	"encoding/xml"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the messaging primitives used by the inbound webhook are modeled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlMessage struct {
	XMLName xml.Name `xml:"Message"`
	Body    string   `xml:",chardata"`
}

// RenderMessagingTwiML returns a <Response> with one <Message> per reply, or an empty
// <Response/> when there is nothing to say.
func RenderMessagingTwiML(replies ...string) (string, error) {
	var r twimlResponse
	for _, body := range replies {
		if body == "" {
			continue
		}
		r.Verbs = append(r.Verbs, twimlMessage{Body: body})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
