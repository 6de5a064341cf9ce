package tutor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lessonlab/codecamp"
)

// catalogURI is the single streamed resource the tutor exposes: the full
// course catalog as a JSON document.
const catalogURI = "codecamp://catalog"

// ListResources implements codecamp.ResourceServer interface.
func (s Server) ListResources(context.Context, codecamp.ListResourcesParams) (codecamp.ListResourcesResult, error) {
	return codecamp.ListResourcesResult{
		Resources: []codecamp.Resource{
			{
				URI:         catalogURI,
				Name:        "Course Catalog",
				Description: "All available courses with their lesson listings",
				MimeType:    "application/json",
			},
		},
	}, nil
}

// ReadResource implements codecamp.ResourceServer interface.
func (s Server) ReadResource(_ context.Context, params codecamp.ReadResourceParams) (codecamp.ReadResourceResult, error) {
	if params.URI != catalogURI {
		return codecamp.ReadResourceResult{}, fmt.Errorf("resource not found: %s", params.URI)
	}

	summaries, err := s.store.Summaries()
	if err != nil {
		return codecamp.ReadResourceResult{}, err
	}

	catalogJSON, err := json.Marshal(summaries)
	if err != nil {
		return codecamp.ReadResourceResult{}, err
	}

	return codecamp.ReadResourceResult{
		Contents: []codecamp.ResourceContents{
			{
				URI:      catalogURI,
				MimeType: "application/json",
				Text:     string(catalogJSON),
			},
		},
	}, nil
}
