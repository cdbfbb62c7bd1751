package message

import "encoding/json"

// StringToObject parses the canonical string form of a generic object
// document (used by exec-config files and control-message "update"
// payloads) into a map[string]any, mirroring arras4_message_api's
// stringToObject/Object. JSON is the concrete string form.
func StringToObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, NewMessageFormatError("invalid object document: %v", err)
	}
	return obj, nil
}

// ObjectToString renders obj back to its canonical string form.
func ObjectToString(obj map[string]any) (string, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return "", NewMessageFormatError("could not encode object document: %v", err)
	}
	return string(b), nil
}
