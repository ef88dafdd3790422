package router

// User-facing texts. WhatsApp renders *bold* and _italic_ markup.

const menuOptions = "*Choose an option:*\n\n" +
	"*0.* Exit Assistant\n  _Type 0 anytime to end the session and reset_\n\n" +
	"*1.* Upload & Process Invoice Image\n  _Upload an invoice image for analysis_\n\n" +
	"*2.* Retrieve Invoice Information\n  _Query your stored invoice data_\n"

const (
	replyWelcome = "Welcome to the Invoice Assistant!\n\n" + menuOptions

	replyInvalidChoice = "Invalid choice.\n\n" + menuOptions

	replyRecovered = "Something went wrong. Please start over.\n\n" + menuOptions

	replySendImage = "Please provide a single image to process."

	replySendQuery = "Please write a sentence describing what information you would like."

	replyProcessingImage = "Processing your image. Please wait."

	replyProcessingQuery = "Processing your request. Please wait."

	replyStillProcessing = "Please wait while we process your previous request."

	replyGoodbye = "Thank you for using Invoice Assistant. Your session has ended. " +
		"To begin a new session, simply send another message. 👋"

	replyNoMedia = "No media file was found. Please send one invoice image."

	replyTooMuchMedia = "You sent more than one image. Please send only *one* invoice image."

	replyEmptyQuery = "Your message was empty. Please describe the invoice information you would like."
)

// replyUnsupportedMedia is built per message since it names the rejected type.
func replyUnsupportedMedia(contentType string) string {
	return "The file type '" + contentType + "' is not supported. Please resend a JPG or PNG image."
}
