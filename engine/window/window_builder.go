package window

// WindowBuilderOption is a functional option for configuring a window.
// Use the With* functions to create options.
type WindowBuilderOption func(w *viewerWindow)

// WithTitle sets the window title displayed in the title bar.
//
// Parameters:
//   - title: the window title text
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithTitle(title string) WindowBuilderOption {
	return func(w *viewerWindow) {
		w.title = title
	}
}

// WithDimensions sets the initial window size in screen coordinates. The
// framebuffer may come out larger on high-DPI displays; Width and Height
// report the actual pixel size after creation.
//
// Parameters:
//   - width, height: initial size
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithDimensions(width, height int) WindowBuilderOption {
	return func(w *viewerWindow) {
		w.width = width
		w.height = height
	}
}
