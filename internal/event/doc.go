/*
Package event provides the pub/sub event system that reports what winx does.

Components publish events after state changes; nothing in the request path
depends on a subscriber being present.

# Architecture

Typed subscribers registered with Subscribe or SubscribeAll receive the
Event value directly, asynchronously (Publish) or in the publishing goroutine
(PublishSync). Every event is also marshaled to JSON and published on the
StreamTopic of a watermill GoChannel; Stream hands that channel to consumers
such as the HTTP /events endpoint.

# Event Types

Workspace:
  - workspace.initialized: Initialize completed
  - mode.changed: permission mode replaced by reinitialization

Session:
  - session.state: command session state transition
  - command.started / command.completed: foreground command lifecycle
  - job.started / job.finished: background job lifecycle

Files:
  - file.written: WriteIfEmpty created a file
  - file.edited: search/replace edits committed

Other:
  - checkpoint.saved: task context persisted
  - permission.denied: an action was refused by the active mode
*/
package event
