/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"

	appsv1alpha1 "github.com/platform-dev/microservice-operator/api/v1alpha1"
)

var _ = Describe("Spec updates", func() {
	ctx := context.Background()

	It("should update only the Deployment when replicas change", func() {
		name := uniqueName("scale")
		ms := newMicroservice(name, "default")
		r, c := newTestReconciler(ms)

		_, err := reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		key := types.NamespacedName{Name: name, Namespace: "default"}
		svcBefore := &corev1.Service{}
		Expect(c.Get(ctx, key, svcBefore)).To(Succeed())
		cmBefore := &corev1.ConfigMap{}
		Expect(c.Get(ctx, key, cmBefore)).To(Succeed())

		got, err := fetchMicroservice(c, name, "default")
		Expect(err).NotTo(HaveOccurred())
		got.Spec.Replicas = ptr.To(int32(5))
		Expect(c.Update(ctx, got)).To(Succeed())

		_, err = reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		dep := &appsv1.Deployment{}
		Expect(c.Get(ctx, key, dep)).To(Succeed())
		Expect(*dep.Spec.Replicas).To(Equal(int32(5)))

		// Siblings with no diff must not be rewritten.
		svcAfter := &corev1.Service{}
		Expect(c.Get(ctx, key, svcAfter)).To(Succeed())
		Expect(svcAfter.ResourceVersion).To(Equal(svcBefore.ResourceVersion))
		cmAfter := &corev1.ConfigMap{}
		Expect(c.Get(ctx, key, cmAfter)).To(Succeed())
		Expect(cmAfter.ResourceVersion).To(Equal(cmBefore.ResourceVersion))
	})

	It("should roll the pod template when config changes", func() {
		name := uniqueName("cfg")
		ms := newMicroservice(name, "default", func(m *appsv1alpha1.Microservice) {
			m.Spec.Config = map[string]string{"LOG_LEVEL": "info"}
		})
		r, c := newTestReconciler(ms)

		_, err := reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		key := types.NamespacedName{Name: name, Namespace: "default"}
		dep := &appsv1.Deployment{}
		Expect(c.Get(ctx, key, dep)).To(Succeed())
		checksumBefore := dep.Spec.Template.Annotations[AnnotationConfigChecksum]
		Expect(checksumBefore).NotTo(BeEmpty())

		got, err := fetchMicroservice(c, name, "default")
		Expect(err).NotTo(HaveOccurred())
		got.Spec.Config = map[string]string{"LOG_LEVEL": "debug"}
		Expect(c.Update(ctx, got)).To(Succeed())

		_, err = reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		cm := &corev1.ConfigMap{}
		Expect(c.Get(ctx, key, cm)).To(Succeed())
		Expect(cm.Data).To(HaveKeyWithValue("LOG_LEVEL", "debug"))

		Expect(c.Get(ctx, key, dep)).To(Succeed())
		Expect(dep.Spec.Template.Annotations[AnnotationConfigChecksum]).NotTo(Equal(checksumBefore))
	})

	It("should revert drift on managed fields and preserve unmanaged ones", func() {
		name := uniqueName("drift")
		ms := newMicroservice(name, "default")
		r, c := newTestReconciler(ms)

		_, err := reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		// Tamper with a managed field and add an unmanaged one.
		key := types.NamespacedName{Name: name, Namespace: "default"}
		dep := &appsv1.Deployment{}
		Expect(c.Get(ctx, key, dep)).To(Succeed())
		dep.Spec.Template.Spec.Containers[0].Image = "tampered:latest"
		dep.Spec.Paused = true
		Expect(c.Update(ctx, dep)).To(Succeed())

		_, err = reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Get(ctx, key, dep)).To(Succeed())
		Expect(dep.Spec.Template.Spec.Containers[0].Image).To(Equal(ms.Spec.Image))
		Expect(dep.Spec.Paused).To(BeTrue(), "fields outside the managed set stay as found")
	})

	It("should recreate a deleted dependent", func() {
		name := uniqueName("heal")
		ms := newMicroservice(name, "default")
		r, c := newTestReconciler(ms)

		_, err := reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		key := types.NamespacedName{Name: name, Namespace: "default"}
		svc := &corev1.Service{}
		Expect(c.Get(ctx, key, svc)).To(Succeed())
		Expect(c.Delete(ctx, svc)).To(Succeed())

		_, err = reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Get(ctx, key, &corev1.Service{})).To(Succeed())
	})
})
