// Package models defines domain entities and the stage vocabulary shared by the engine, the coordinator and the views.
//
// The package contains three categories of types:
//
// 1. Persistent entities backed by the project store
//   - [Project] : One source video and the segments detected in it
//   - [Segment] : A detected time range tagged by [SegmentType] and [SegmentStatus]
//
// 2. Processing state
//   - [ProcessingState] : Everything a view needs to render one project's in-flight work
//   - [ProjectStatus] : Durable stage and progress surfaced to project lists
//   - [Stage] : Closed set of pipeline stages; display text lives in the formatter package
//
// 3. Engine messages
//   - [Event] / [EventKind] : Project-tagged progress notifications pushed by the engine
//   - [CacheStatus], [Separation] : Results of engine calls
package models
