package support

import (
	"fmt"
	"net/http"

	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/server"
	"github.com/MeKo-Tech/lectorium/internal/testutil"
	"github.com/cucumber/godog"
)

func (tc *TestContext) aPageDocumentIsOpen(pages int, id string) error {
	if err := tc.upload(id, id+".pdf", testutil.SamplePDF(pages)); err != nil {
		return err
	}
	tc.DocumentID = id
	return tc.expect(http.StatusCreated, nil)
}

func (tc *TestContext) iSaveTheDocument() error {
	if err := tc.request(http.MethodPost, tc.documentPath("/save"), nil); err != nil {
		return err
	}
	return tc.expect(http.StatusOK, &tc.LastSave)
}

func (tc *TestContext) theSaveShouldBurnOCRPagesAndAnnotations(pages, anns int) error {
	if got := len(tc.LastSave.OCRPages); got != pages {
		return fmt.Errorf("expected %d burned OCR pages, got %d", pages, got)
	}
	if got := len(tc.LastSave.Annotations); got != anns {
		return fmt.Errorf("expected %d burned annotations, got %d", anns, got)
	}
	return nil
}

func (tc *TestContext) iCloseTheDocument() error {
	if err := tc.request(http.MethodDelete, tc.documentPath(""), nil); err != nil {
		return err
	}
	return tc.expect(http.StatusNoContent, nil)
}

func (tc *TestContext) iReopenFromTheDocumentsDirectory(id string) error {
	if err := tc.request(http.MethodPost, "/documents", server.OpenRequest{ID: id}); err != nil {
		return err
	}
	tc.DocumentID = id
	return tc.expect(http.StatusCreated, nil)
}

func (tc *TestContext) theDocumentShouldHavePagesAndAnnotations(pages, anns int) error {
	if err := tc.request(http.MethodGet, tc.documentPath(""), nil); err != nil {
		return err
	}
	var info server.DocumentResponse
	if err := tc.expect(http.StatusOK, &info); err != nil {
		return err
	}
	if info.PageCount != pages {
		return fmt.Errorf("expected %d pages, got %d", pages, info.PageCount)
	}
	if info.Annotations != anns {
		return fmt.Errorf("expected %d annotations, got %d", anns, info.Annotations)
	}
	if info.Conflict.Conflicting {
		return fmt.Errorf("unexpected conflict: %s", info.Conflict.Reason)
	}
	return nil
}

func (tc *TestContext) theSavedFileShouldEmbedAnnotations(n int) error {
	data, err := tc.Writer.Read(tc.DocumentID)
	if err != nil {
		return err
	}
	embedded, err := burner.ReadEmbedded(data)
	if err != nil {
		return fmt.Errorf("failed to read embedded annotations: %w", err)
	}
	if len(embedded) != n {
		return fmt.Errorf("expected %d embedded annotations, got %d", n, len(embedded))
	}
	return nil
}

func (tc *TestContext) theSaveKindShouldBe(kind string) error {
	if tc.LastSave.Kind != kind {
		return fmt.Errorf("expected a %s save, got %s", kind, tc.LastSave.Kind)
	}
	return nil
}

func (tc *TestContext) iRequestTheDocument(id string) error {
	return tc.request(http.MethodGet, "/documents/"+id, nil)
}

func (tc *TestContext) theResponseStatusShouldBe(status int) error {
	return tc.expect(status, nil)
}

func (tc *TestContext) theResponseShouldSuggest(remedy string) error {
	var e server.ErrorResponse
	if err := tc.expect(tc.LastStatusCode, &e); err != nil {
		return err
	}
	if e.Remedy != remedy {
		return fmt.Errorf("expected remedy %q, got %q", remedy, e.Remedy)
	}
	return nil
}

// RegisterDocumentSteps registers document lifecycle steps.
func (tc *TestContext) RegisterDocumentSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a (\d+) page document "([^"]*)" is open$`, tc.aPageDocumentIsOpen)
	sc.Step(`^I save the document$`, tc.iSaveTheDocument)
	sc.Step(`^the save should burn (\d+) OCR pages? and (\d+) annotations?$`, tc.theSaveShouldBurnOCRPagesAndAnnotations)
	sc.Step(`^the save should be (?:an? )?(incremental|full)$`, tc.theSaveKindShouldBe)
	sc.Step(`^I close the document$`, tc.iCloseTheDocument)
	sc.Step(`^I reopen "([^"]*)" from the documents directory$`, tc.iReopenFromTheDocumentsDirectory)
	sc.Step(`^the document should have (\d+) pages and (\d+) annotations?$`, tc.theDocumentShouldHavePagesAndAnnotations)
	sc.Step(`^the saved file should embed (\d+) annotations?$`, tc.theSavedFileShouldEmbedAnnotations)
	sc.Step(`^I request the document "([^"]*)"$`, tc.iRequestTheDocument)
	sc.Step(`^the response status should be (\d+)$`, tc.theResponseStatusShouldBe)
	sc.Step(`^the response should suggest "([^"]*)"$`, tc.theResponseShouldSuggest)
}
