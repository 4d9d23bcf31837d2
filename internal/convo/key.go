package convo

import (
	"fmt"
	"strings"
)

// ConversationKey derives the sharding key for all message queries of one
// logical conversation. It is deterministic: two callers computing the key
// for the same lesson/formation/user always agree, and a different (or
// omitted) userID yields a different key.
func ConversationKey(lessonID, formationID, userID string) string {
	if userID == "" {
		return fmt.Sprintf("conv:f%s:l%s", formationID, lessonID)
	}
	return fmt.Sprintf("conv:f%s:l%s:u%s", formationID, lessonID, userID)
}

// ParseConversationKey recovers the scope ids from a key produced by
// ConversationKey. ok is false for keys in any other format.
func ParseConversationKey(key string) (formationID, lessonID, userID string, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != "conv" {
		return "", "", "", false
	}
	if !strings.HasPrefix(parts[1], "f") || !strings.HasPrefix(parts[2], "l") {
		return "", "", "", false
	}
	formationID = parts[1][1:]
	lessonID = parts[2][1:]
	if len(parts) == 4 {
		if !strings.HasPrefix(parts[3], "u") {
			return "", "", "", false
		}
		userID = parts[3][1:]
	}
	return formationID, lessonID, userID, true
}
