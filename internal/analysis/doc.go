// Package analysis implements the risk analysis client. It sends a patient record to the
// prediction service with a fixed structured-output schema, parses the returned JSON and
// re-validates it before handing the result back.
package analysis
