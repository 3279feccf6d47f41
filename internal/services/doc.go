// Package services holds cross-cutting helpers shared by stage
// implementations: context annotation for structured logging and error
// classification for failure routing.
package services
