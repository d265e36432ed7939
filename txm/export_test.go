package txm

var PromTransitions = promTransitions
