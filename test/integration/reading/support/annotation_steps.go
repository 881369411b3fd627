package support

import (
	"fmt"
	"net/http"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/cucumber/godog"
)

func (tc *TestContext) iHighlightALineOnPage(name string, page int) error {
	ann := model.Annotation{
		Page:    page,
		Type:    model.AnnotationHighlight,
		Color:   "#ffeb3b",
		Opacity: 0.4,
		BBox:    &model.BBox{X: 72, Y: 96, Width: 180, Height: 14},
	}
	if err := tc.request(http.MethodPost, tc.documentPath("/annotations"), ann); err != nil {
		return err
	}
	var created model.Annotation
	if err := tc.expect(http.StatusCreated, &created); err != nil {
		return err
	}
	tc.Annotations[name] = created.ID
	return nil
}

func (tc *TestContext) iAddANoteOnPage(name string, page int, text string) error {
	ann := model.Annotation{
		Page:    page,
		Type:    model.AnnotationNote,
		Color:   "#ff9800",
		Opacity: 1,
		Text:    text,
		BBox:    &model.BBox{X: 400, Y: 300, Width: 20, Height: 20},
	}
	if err := tc.request(http.MethodPost, tc.documentPath("/annotations"), ann); err != nil {
		return err
	}
	var created model.Annotation
	if err := tc.expect(http.StatusCreated, &created); err != nil {
		return err
	}
	tc.Annotations[name] = created.ID
	return nil
}

func (tc *TestContext) iDeleteAnnotation(name string) error {
	id, ok := tc.Annotations[name]
	if !ok {
		return fmt.Errorf("unknown annotation %q", name)
	}
	return tc.request(http.MethodDelete, tc.documentPath("/annotations/"+id), nil)
}

func (tc *TestContext) everyAnnotationShouldBeBurned() error {
	if err := tc.request(http.MethodGet, tc.documentPath("/annotations"), nil); err != nil {
		return err
	}
	var anns []model.Annotation
	if err := tc.expect(http.StatusOK, &anns); err != nil {
		return err
	}
	for _, a := range anns {
		if !a.IsBurned {
			return fmt.Errorf("annotation %s is not burned", a.ID)
		}
	}
	return nil
}

// RegisterAnnotationSteps registers annotation steps.
func (tc *TestContext) RegisterAnnotationSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I highlight "([^"]*)" on page (\d+)$`, tc.iHighlightALineOnPage)
	sc.Step(`^I add a note "([^"]*)" on page (\d+) saying "([^"]*)"$`, tc.iAddANoteOnPage)
	sc.Step(`^I delete the annotation "([^"]*)"$`, tc.iDeleteAnnotation)
	sc.Step(`^every annotation should be burned$`, tc.everyAnnotationShouldBeBurned)
}
