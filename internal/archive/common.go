package archive

// ParseInt converts a string of ASCII digits to an int. It returns -1 when s
// is empty or contains anything else.
func ParseInt(s string) int {
	if s == "" {
		return -1
	}
	num := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		num = num*10 + int(r-'0')
	}
	return num
}
