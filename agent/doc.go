// Package agent is the long-running process the CAD add-in talks to.
//
// It keeps one conversation thread, the tool catalogue uploaded by the CAD
// side and the model settings. A thread_update message starts a run: the
// agent calls the model, streams its text as thread.message.delta events and,
// when the model asks for tools, sends one thread.run.requires_action event
// and waits for the matching tool_outputs message. Tools of configured MCP
// servers are run by the agent itself and never reach the CAD side.
//
// # Events of a run
//
//	thread.run.created
//	thread.run.step.created
//	thread.message.created, thread.message.delta      (when the model writes text)
//	thread.run.requires_action                         (when it calls CAD tools)
//	thread.run.step.completed
//	thread.run.completed | thread.run.cancelled | thread.run.failed
//
// Function calls (upload_tools, update_settings, cancel_run, new_thread,
// get_settings) are answered with a function.result event, or an error frame
// carrying the function name.
//
// Threads are saved as session files after every run so a restarted agent can
// resume them.
package agent
