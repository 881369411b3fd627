package support

import (
	"fmt"
	"net/http"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/ocr"
	"github.com/MeKo-Tech/lectorium/internal/server"
	"github.com/cucumber/godog"
)

func (tc *TestContext) theVisionQuotaIsExhaustedAtPage(page int) error {
	tc.Recognizer.mu.Lock()
	defer tc.Recognizer.mu.Unlock()
	tc.Recognizer.Fail[page] = fmt.Errorf("vision: %w", ocr.ErrQuotaExceeded)
	return nil
}

func (tc *TestContext) iRecognizePage(page int) error {
	if err := tc.request(http.MethodPost, tc.documentPath(fmt.Sprintf("/ocr/%d?wait=true&priority=high", page)), nil); err != nil {
		return err
	}
	return tc.expect(http.StatusOK, nil)
}

func (tc *TestContext) pageShouldHaveRecognizedWords(page, n int) error {
	if err := tc.request(http.MethodGet, tc.documentPath(fmt.Sprintf("/ocr/%d", page)), nil); err != nil {
		return err
	}
	var res server.OCRResponse
	if err := tc.expect(http.StatusOK, &res); err != nil {
		return err
	}
	if len(res.Words) != n {
		return fmt.Errorf("expected %d words on page %d, got %d", n, page, len(res.Words))
	}
	return nil
}

func (tc *TestContext) theWordOnPageShouldHaveConfidence(text string, page int, confidence float64) error {
	if err := tc.request(http.MethodGet, tc.documentPath(fmt.Sprintf("/ocr/%d", page)), nil); err != nil {
		return err
	}
	var res server.OCRResponse
	if err := tc.expect(http.StatusOK, &res); err != nil {
		return err
	}
	for _, w := range res.Words {
		if w.Text != text {
			continue
		}
		if w.Confidence != confidence {
			return fmt.Errorf("word %q has confidence %v, expected %v", text, w.Confidence, confidence)
		}
		return nil
	}
	return fmt.Errorf("word %q not found on page %d", text, page)
}

func (tc *TestContext) lowConfidence(page int) ([]ocr.IndexedWord, error) {
	if err := tc.request(http.MethodGet, tc.documentPath(fmt.Sprintf("/ocr/%d/low-confidence", page)), nil); err != nil {
		return nil, err
	}
	var words []ocr.IndexedWord
	if err := tc.expect(http.StatusOK, &words); err != nil {
		return nil, err
	}
	return words, nil
}

func (tc *TestContext) pageShouldHaveUncertainWords(page, n int) error {
	words, err := tc.lowConfidence(page)
	if err != nil {
		return err
	}
	if len(words) != n {
		return fmt.Errorf("expected %d uncertain words on page %d, got %d", n, page, len(words))
	}
	return nil
}

func (tc *TestContext) iCorrectTheUncertainWordOnPageTo(page int, text string) error {
	words, err := tc.lowConfidence(page)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return fmt.Errorf("page %d has no uncertain words", page)
	}
	path := tc.documentPath(fmt.Sprintf("/ocr/%d/words/%d", page, words[0].Index))
	if err := tc.request(http.MethodPut, path, server.CorrectRequest{Text: text}); err != nil {
		return err
	}
	var corrected ocr.IndexedWord
	if err := tc.expect(http.StatusOK, &corrected); err != nil {
		return err
	}
	if corrected.Word.Text != text || !corrected.Word.IsManuallyCorrected {
		return fmt.Errorf("word was not corrected: %+v", corrected.Word)
	}
	return nil
}

func (tc *TestContext) noRecognizedTextShouldBePending() error {
	if err := tc.request(http.MethodGet, tc.documentPath("/ocr/unburnt"), nil); err != nil {
		return err
	}
	var pending map[int][]model.OCRWord
	if err := tc.expect(http.StatusOK, &pending); err != nil {
		return err
	}
	if len(pending) != 0 {
		return fmt.Errorf("expected no pending pages, got %d", len(pending))
	}
	return nil
}

func (tc *TestContext) iRecognizePagesThrough(start, end int) error {
	return tc.request(http.MethodPost, tc.documentPath("/ocr/batch"), ocr.BatchRequest{Start: start, End: end})
}

func (tc *TestContext) theBatchShouldHaltAfterPages(status, pages, resume int) error {
	var res ocr.BatchResult
	if err := tc.expect(status, &res); err != nil {
		return err
	}
	if !res.Halted {
		return fmt.Errorf("expected the batch to halt")
	}
	if len(res.Pages) != pages {
		return fmt.Errorf("expected %d completed pages, got %d", pages, len(res.Pages))
	}
	if res.ResumeFrom != resume {
		return fmt.Errorf("expected resume point %d, got %d", resume, res.ResumeFrom)
	}
	return nil
}

func (tc *TestContext) theVisionServiceShouldHaveBeenCalled(n int) error {
	tc.Recognizer.mu.Lock()
	defer tc.Recognizer.mu.Unlock()
	if len(tc.Recognizer.Calls) != n {
		return fmt.Errorf("expected %d recognitions, got %d (pages %v)", n, len(tc.Recognizer.Calls), tc.Recognizer.Calls)
	}
	return nil
}

// RegisterOCRSteps registers recognition and correction steps.
func (tc *TestContext) RegisterOCRSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the vision quota is exhausted at page (\d+)$`, tc.theVisionQuotaIsExhaustedAtPage)
	sc.Step(`^I recognize page (\d+)$`, tc.iRecognizePage)
	sc.Step(`^page (\d+) should have (\d+) recognized words?$`, tc.pageShouldHaveRecognizedWords)
	sc.Step(`^page (\d+) should have (\d+) uncertain words?$`, tc.pageShouldHaveUncertainWords)
	sc.Step(`^the word "([^"]*)" on page (\d+) should have confidence (\d+(?:\.\d+)?)$`, tc.theWordOnPageShouldHaveConfidence)
	sc.Step(`^I correct the uncertain word on page (\d+) to "([^"]*)"$`, tc.iCorrectTheUncertainWordOnPageTo)
	sc.Step(`^no recognized text should be pending$`, tc.noRecognizedTextShouldBePending)
	sc.Step(`^the vision service should have been called (\d+) times?$`, tc.theVisionServiceShouldHaveBeenCalled)
	sc.Step(`^I recognize pages (\d+) through (\d+)$`, tc.iRecognizePagesThrough)
	sc.Step(`^the batch should halt with status (\d+) after (\d+) pages? resuming after page (-?\d+)$`, tc.theBatchShouldHaltAfterPages)
}
