/*
Package protocol decodes the backend event stream and its command responses.

The stream is a sequence of frames separated by a blank line. Frames of interest
start with the "data: " tag followed by a JSON object:

	data: {"type": "meta", "thread_id": "t1", "status": "STARTING"}

	data: {"type": "status_update", "data": {"status": "AWAITING_HUMAN_REVIEW"}}

The upstream schema is not uniform: the same concern (status, draft, thread id)
may live at several locations depending on the record. Resolvers describe those
locations as ordered path lists, so a new schema variant is a new path, not new code.
*/
package protocol
