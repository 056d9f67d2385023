package vision

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

type DetectLabelsAPI interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// RekognitionLabeler returns the top labels AWS Rekognition finds in an image.
type RekognitionLabeler struct {
	client        DetectLabelsAPI
	maxLabels     int32
	minConfidence float32
}

func NewRekognitionLabeler(client DetectLabelsAPI) *RekognitionLabeler {
	return &RekognitionLabeler{client: client, maxLabels: 5, minConfidence: 75}
}

func NewRekognitionLabelerFromConfig(cfg aws.Config) *RekognitionLabeler {
	return NewRekognitionLabeler(rekognition.NewFromConfig(cfg))
}

func (r *RekognitionLabeler) Labels(ctx context.Context, image []byte) ([]string, error) {
	out, err := r.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: image},
		MaxLabels:     aws.Int32(r.maxLabels),
		MinConfidence: aws.Float32(r.minConfidence),
	})
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(out.Labels))
	for _, l := range out.Labels {
		if l.Name != nil {
			labels = append(labels, *l.Name)
		}
	}
	return labels, nil
}
