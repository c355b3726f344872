// Package mixer implements the program audio path: one gain stage per
// source, a master multiplier, an optional per-stage noise gate, and a 20 ms
// pump that folds every stage into the single mixed output track. Element
// sources (clips, stingers, media players) are dual-routed into the program
// mix and a local monitor track.
package mixer
