package twilio

import "strings"

// twimlHeader opens every TwiML document.
const twimlHeader = `<?xml version="1.0" encoding="UTF-8"?>`

// EmptyTwiML acknowledges a webhook without sending anything back through
// the synchronous return path. The actual reply travels the outbound stream.
const EmptyTwiML = twimlHeader + "\n<Response/>\n"

// TwiMLContentType is the response content type Twilio expects.
const TwiMLContentType = "application/xml"

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// MessageTwiML renders a TwiML document that sends text back to the user as
// part of the webhook response itself.
func MessageTwiML(text string) string {
	var b strings.Builder
	b.WriteString(twimlHeader)
	b.WriteString("\n<Response>\n  <Message>")
	b.WriteString(xmlEscaper.Replace(text))
	b.WriteString("</Message>\n</Response>\n")
	return b.String()
}
