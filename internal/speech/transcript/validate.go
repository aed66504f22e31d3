package transcript

// Validate checks that every segment and word has Start <= End.
func Validate(segments []GlobalSegment) error {
	for i, s := range segments {
		if s.End < s.Start {
			return &AssemblyError{SegmentIndex: i, Start: s.Start, End: s.End, Reason: "segment ends before it starts"}
		}
		for _, w := range s.Words {
			if w.End < w.Start {
				return &AssemblyError{SegmentIndex: i, Start: w.Start, End: w.End, Reason: "word " + w.Text + " ends before it starts"}
			}
		}
	}
	return nil
}
