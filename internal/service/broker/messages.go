package broker

import (
	"fmt"
	"strings"
)

const (
	welcomeText  = "System is Started Successfully ✅\n╰┈➤ Now send me any media to store it..."
	notFoundText = "❌ *File not found.* It may have been deleted."
	deniedText   = "⚠️ *Access Denied*\n\nYou must subscribe to our channel to access this file."
	failedText   = "⚠️ Something went wrong, please try again later."
	storeFailed  = "⚠️ Could not store your file, please try again."
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func uploadedText(link string) string {
	return fmt.Sprintf("*Press The Button Or Click To Copy\nThe Link Below To Share Your File!*\n\n%s\n\nPress The [Button](%s) To Open The Link",
		markdownEscaper.Replace(link), link)
}

func (s *Service) defaultCaption() string {
	return "Uploaded via @" + s.botUsername
}
