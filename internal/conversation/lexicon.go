package conversation

import (
	"regexp"
	"strings"
)

var confirmations = []string{
	"yes", "yeah", "yep", "sure", "ok", "okay", "go ahead", "proceed",
	"do it", "sounds good", "perfect", "great", "confirm", "approved", "👍",
}

var rejections = []string{
	"no", "nope", "cancel", "stop", "don't", "wait", "hold", "nevermind",
	"never mind", "forget it", "not now", "👎",
}

var (
	confirmationRE = lexiconRegexp(confirmations)
	rejectionRE    = lexiconRegexp(rejections)
)

// lexiconRegexp matches any phrase as whole words. Phrases that start or end
// with a non-word character such as an emoji match anywhere.
func lexiconRegexp(phrases []string) *regexp.Regexp {
	alts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		quoted := regexp.QuoteMeta(p)
		if isWordByte(p[0]) {
			quoted = `\b` + quoted
		}
		if isWordByte(p[len(p)-1]) {
			quoted += `\b`
		}
		alts = append(alts, quoted)
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func normalize(message string) string {
	// Curly apostrophes are common from mobile keyboards.
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(message)), "’", "'")
}

// IsConfirmation reports whether message contains an affirmative phrase.
func IsConfirmation(message string) bool {
	return confirmationRE.MatchString(normalize(message))
}

// IsRejection reports whether message contains a negative or halt phrase.
func IsRejection(message string) bool {
	return rejectionRE.MatchString(normalize(message))
}

// Reply classifies a message sent while a proposal is pending.
type Reply int

const (
	// ReplyAmbiguous means the message must be classified as a new intent.
	ReplyAmbiguous Reply = iota
	ReplyConfirm
	ReplyReject
)

// ClassifyReply applies both lexicons. Matching both or neither is ambiguous.
func ClassifyReply(message string) Reply {
	yes, no := IsConfirmation(message), IsRejection(message)
	switch {
	case yes && !no:
		return ReplyConfirm
	case no && !yes:
		return ReplyReject
	default:
		return ReplyAmbiguous
	}
}
