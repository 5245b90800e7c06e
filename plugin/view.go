package plugin

import "image"

// View is the docked panel as the Docker drives it. Methods may be called
// from generation goroutines; implementations hop to the UI thread
// themselves.
type View interface {
	Show()
	SetStatus(text string)
	SetSamplers(names []string)
	SetGenerateEnabled(enabled bool)
	SetInsertEnabled(enabled bool)
	ShowProgress(percent int)
	HideProgress()
	ShowPreview(img *image.NRGBA)
	ClearPreview()
	ShowError(message string)
}

// nopView stands in until the host attaches a real panel.
type nopView struct{}

func (nopView) Show() {}
func (nopView) SetStatus(string) {}
func (nopView) SetSamplers([]string) {}
func (nopView) SetGenerateEnabled(bool) {}
func (nopView) SetInsertEnabled(bool) {}
func (nopView) ShowProgress(int) {}
func (nopView) HideProgress() {}
func (nopView) ShowPreview(*image.NRGBA) {}
func (nopView) ClearPreview() {}
func (nopView) ShowError(string) {}
