package classify

import "errors"

// ErrConfiguration marks mismatches between a project and the model list
// (unknown model id, unsupported stage kind, embedding language gaps).
// These are operator errors: retrying without a config change cannot help.
var ErrConfiguration = errors.New("classifier configuration error")
