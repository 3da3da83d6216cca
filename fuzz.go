package efiverify

// Fuzz retargets the teacher's go-fuzz entry point (fuzz.go) at Verify
// instead of File.Parse: any non-nil error is an expected rejection of
// malformed input, and Verify must never panic regardless of data.
func Fuzz(data []byte) int {
	_, err := Verify(data, nil)
	if err != nil {
		return 0
	}
	return 1
}
