package main

const (
	exitCodeSuccess      = 0
	exitCodeUsage        = 1
	exitCodeValidation   = 2
	exitCodeConflict     = 3
	exitCodeUnknownAgent = 4
	exitCodeDriver       = 5
	exitCodeSummarize    = 6
	exitCodeNotFound     = 7
	exitCodeConfig       = 8
)
