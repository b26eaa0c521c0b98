// Package errors provides coded, actionable errors for the ghostwatch CLI.
//
// Each code maps to a category, a short message, a longer explanation and
// often a suggested fix. Config errors can point at the offending line of
// the config file.
//
// # Error Codes
//
//   - E100-E109: dictionary (E100 dictionary missing at startup)
//   - E110-E129: configuration
//   - E130-E139: protocol and admin requests
//   - E140-E149: server and command line
//
// # Usage
//
//	err := errors.New("E120").
//	    WithLocation("ghostwatch.json", 4, 22).
//	    WithSuggestion(`Use "100ms"`)
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E120: Invalid duration
//	//
//	//   ghostwatch.json:4:22
//	//
//	//        2 │   "batch": {
//	//        3 │     "size": 64,
//	//   →    4 │     "flush_interval": "100",
//	//          │                      ^
//	//        5 │   },
//	//
//	//   Durations are strings with a unit, such as "100ms" or "30s".
//	//
//	//   Hint: Use "100ms"
package errors
