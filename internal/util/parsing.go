package util

// GetInt64 extracts a loosely-typed JSON numeric field (decoded as
// float64 by encoding/json) as an int64, used to read usage/token
// counts out of a map[string]interface{} payload without a struct tag
// per provider response shape.
func GetInt64(m map[string]interface{}, key string) (int64, bool) {
	if val, ok := m[key]; ok {
		if f, ok := val.(float64); ok {
			return int64(f), true
		}
	}
	return 0, false
}
