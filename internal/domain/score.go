package domain

// Score validates an option against a question and returns (correct, points).
// The no-answer placeholder is valid and scores zero.
func Score(q Question, option int) (bool, int, error) {
	if option == NoAnswer {
		return false, 0, nil
	}
	if option < 0 || option >= len(q.Options) {
		return false, 0, ErrOptionNotFound
	}
	if option != q.CorrectOption {
		return false, 0, nil
	}
	points := q.Points
	if points == 0 {
		points = 1
	}
	return true, points, nil
}
