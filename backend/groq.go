package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const groqTranscriptionURL = "https://api.groq.com/openai/v1/audio/transcriptions"

type groqClient struct {
	apiKey string
	apiURL string
	client *http.Client
}

func newGroqClient(apiKey string) *groqClient {
	return &groqClient{
		apiKey: apiKey,
		apiURL: groqTranscriptionURL,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type groqResponse struct {
	Text string `json:"text"`
}

func (g *groqClient) transcribe(ctx context.Context, flacData []byte, language string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.flac")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(flacData); err != nil {
		return "", err
	}

	writer.WriteField("model", "whisper-large-v3-turbo")
	writer.WriteField("response_format", "json")
	if language != "" {
		writer.WriteField("language", language)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("groq rejected credentials (HTTP %d): %w", resp.StatusCode, ErrAuth)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("groq API error %d: %s", resp.StatusCode, string(data))
	}

	var gResp groqResponse
	if err := json.Unmarshal(data, &gResp); err != nil {
		return "", fmt.Errorf("groq response parse error: %w", err)
	}
	return gResp.Text, nil
}
