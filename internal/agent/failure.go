package agent

import "fmt"

// FailureAnswer is the user-facing reply for a turn that ended in error.
func FailureAnswer(err error) string {
	return fmt.Sprintf("I'm sorry, but I was unable to answer your question.\n"+
		"After several attempts, I encountered the following error:\n"+
		"%v\n"+
		"Please try rephrasing your question.", err)
}
