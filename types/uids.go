package types

// ApplicationContextUID is the single application context defined by DICOM.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Transfer syntaxes proposed by default
const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
)

// SOP classes the client negotiates out of the box
const (
	VerificationSOPClass                         = "1.2.840.10008.1.1"
	StudyRootQueryRetrieveInformationModelFind   = "1.2.840.10008.5.1.4.1.2.2.1"
	PatientRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.1.1"
)
