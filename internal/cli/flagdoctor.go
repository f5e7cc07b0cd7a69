package cli

// validateFlags centralizes common flag combinations to keep behavior consistent.
func validateFlags(globals *Globals) error {
	// quiet + text would hide the only output of a recording; steer to ndjson
	if globals != nil && globals.Format == "text" && globals.Quiet {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--quiet is only supported with ndjson output", "switch to --format ndjson or drop --quiet")
	}
	if globals != nil && globals.Config != nil {
		if err := globals.Config.Validate(); err != nil {
			return outputErrorCommon(globals, "INVALID_CONFIG", err.Error(), "run `roborec config path` to find the file")
		}
	}
	return nil
}
