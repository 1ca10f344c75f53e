package automation

// LoginSequence clicks the username field, types the username, does the
// same for the password, and clicks the submit button.
func LoginSequence(userField, passField, submit Point, username, password string) ([]Action, error) {
	return buildSequence([]step{
		{KindClick, Params{At: &userField}, "Click username field"},
		{KindTypeText, Params{Text: username}, "Type username"},
		{KindClick, Params{At: &passField}, "Click password field"},
		{KindTypeText, Params{Text: password}, "Type password"},
		{KindClick, Params{At: &submit}, "Click login button"},
	})
}

// CopyPasteSequence selects everything at from, copies it, and pastes at to.
// modifier is the platform's shortcut key, "ctrl" or "cmd".
func CopyPasteSequence(from, to Point, modifier string) ([]Action, error) {
	if modifier == "" {
		modifier = "ctrl"
	}
	return buildSequence([]step{
		{KindClick, Params{At: &from}, "Click source location"},
		{KindKeyCombination, Params{Keys: []string{modifier, "a"}}, "Select all"},
		{KindKeyCombination, Params{Keys: []string{modifier, "c"}}, "Copy"},
		{KindClick, Params{At: &to}, "Click destination"},
		{KindKeyCombination, Params{Keys: []string{modifier, "v"}}, "Paste"},
	})
}

type step struct {
	kind        Kind
	params      Params
	description string
}

func buildSequence(steps []step) ([]Action, error) {
	actions := make([]Action, 0, len(steps))
	for _, s := range steps {
		a, err := Build(s.kind, s.params, s.description)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}
