package yoloprep

// TFRecord object detection specific functionality.

import (
	"fmt"
	"io"
	"math"

	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sensorable/yoloprep/protos"
)

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// tfRecordLabelID is the label map ID for a class index. ID 0 is reserved for the background.
func tfRecordLabelID(class int) int32 {
	return int32(class) + 1
}

// toTFRecord converts the record f for the image at f.ImagePath to a TFRecord feature map. Shapes
// are represented by their bounding boxes; shapes without a class in registry are left out.
func toTFRecord(fs afero.Fs, f AnnotatedFile, registry ClassRegistry) (TFFeatureMap, error) {
	imgData, err := afero.ReadFile(fs, f.ImagePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read the image")
	}

	width := int(math.Round(f.ImageWidth))
	height := int(math.Round(f.ImageHeight))

	// Prepare the feature map for the per file data.
	m := make(TFFeatureMap, 16)
	m["image/height"] = height
	m["image/width"] = width
	m["image/filename"] = f.ImagePath
	m["image/source_id"] = f.ImagePath
	m["image/encoded"] = imgData
	m["image/format"] = imageFormat(f.ImagePath)

	// Prepare the per label data.
	numShapes := len(f.Shapes)
	xmins := make([]float32, 0, numShapes)
	ymins := make([]float32, 0, numShapes)
	xmaxs := make([]float32, 0, numShapes)
	ymaxs := make([]float32, 0, numShapes)
	classes := make([]string, 0, numShapes)
	classIDs := make([]int64, 0, numShapes)
	for _, s := range f.Shapes {
		class, ok := registry.Index(s.Label)
		if !ok || len(s.Points) == 0 || s.Kind == ShapeOther ||
			(s.Kind == ShapeRectangle && len(s.Points) != 2) {
			continue
		}

		b := s.Bounds()
		xmins = append(xmins, float32(b[0]/f.ImageWidth))
		ymins = append(ymins, float32(b[1]/f.ImageHeight))
		xmaxs = append(xmaxs, float32(b[2]/f.ImageWidth))
		ymaxs = append(ymaxs, float32(b[3]/f.ImageHeight))
		classes = append(classes, s.Label)
		classIDs = append(classIDs, int64(tfRecordLabelID(class)))
	}
	m["image/object/bbox/xmin"] = xmins
	m["image/object/bbox/ymin"] = ymins
	m["image/object/bbox/xmax"] = xmaxs
	m["image/object/bbox/ymax"] = ymaxs
	m["image/object/class/text"] = classes
	m["image/object/class/label"] = classIDs

	return m, nil
}

// WriteTFRecord does a streaming conversion, serialisation and file write for the records to one
// or more TFRecord files stored under recordFilePath (with suffixes added when numShards>1).
//
// Fewer shards are written if there are not enough records to fill numShards.
//
// Every record must have its ImagePath set. Records that fail to convert are logged and skipped.
// Returns the number of examples written.
func WriteTFRecord(fs afero.Fs, recordFilePath string, data []AnnotatedFile,
	registry ClassRegistry, numShards int) (written int, err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}
	if len(data) == 0 {
		f, err := fs.Create(recordFilePath)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to create %q", recordFilePath)
		}
		return 0, f.Close()
	}

	fmtShardSuffix := func(idx int) string {
		return fmt.Sprintf("-%05d-of-%05d", idx, numShards)
	}

	var shardFile afero.File
	defer func() {
		if shardFile != nil {
			closeWithErrCheck(shardFile, &err)
		}
	}()
	shardSize := int(math.Ceil(float64(len(data)) / float64(numShards)))
	// The shard count in the file names is the number of files written.
	numShards = int(math.Ceil(float64(len(data)) / float64(shardSize)))
	shardIdx := -1

	// Convert and serialise one record at a time.
	for i, fileData := range data {
		// Check if a new shard file needs to be opened for writing.
		if i%shardSize == 0 {
			shardIdx++

			if shardFile != nil {
				if err := shardFile.Close(); err != nil {
					return written, err
				}
				shardFile = nil
			}

			shardPath := recordFilePath
			if numShards > 1 {
				shardPath += fmtShardSuffix(shardIdx)
			}
			f, err := fs.Create(shardPath)
			if err != nil {
				return written, errors.Wrapf(err, "failed to create shard at %q", shardPath)
			}
			shardFile = f
		}

		features, err := toTFRecord(fs, fileData, registry)
		if err != nil {
			log.WithField("image", fileData.ImagePath).WithError(err).Warn("Failed to convert")
			continue
		}
		tfExample := example.New(features)

		if err := writeTFRecordExample(shardFile, tfExample); err != nil {
			return written, errors.Wrap(err, "failed to write example")
		}
		written++
	}

	return written, nil
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// WriteTFRecordLabelMap writes the label map for registry to path in prototxt format.
func WriteTFRecordLabelMap(fs afero.Fs, path string, registry ClassRegistry) (err error) {
	names := registry.Names()
	siLabelMap := &protos.StringIntLabelMap{
		Item: make([]*protos.StringIntLabelMapItem, 0, len(names)),
	}
	for i, name := range names {
		siLabelMap.Item = append(siLabelMap.Item, &protos.StringIntLabelMapItem{
			Name: proto.String(name),
			Id:   proto.Int32(tfRecordLabelID(i)),
		})
	}

	file, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create the label map file %q", path)
	}
	defer closeWithErrCheck(file, &err)

	if err := proto.MarshalText(file, siLabelMap); err != nil {
		return errors.Wrapf(err, "failed to write the label map %q", path)
	}
	return nil
}

// ReadTFRecordLabelMap loads the label map from path.
func ReadTFRecordLabelMap(fs afero.Fs, path string) (map[string]int32, error) {
	text, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	var siLabelMap protos.StringIntLabelMap
	if err := proto.UnmarshalText(string(text), &siLabelMap); err != nil {
		return nil, err
	}

	labelMap := make(map[string]int32, len(siLabelMap.Item))
	for _, item := range siLabelMap.Item {
		k, v := item.GetName(), item.GetId()
		if k == "" || v <= 0 {
			return nil, fmt.Errorf("invalid entry: %s: %d", k, v)
		}
		labelMap[k] = v
	}
	return labelMap, nil
}
